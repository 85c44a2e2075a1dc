package store

// FastScrypt lowers the scrypt cost so tests do not spend seconds per seal.
func FastScrypt(s *StateStore) { s.scrypt = scryptParams{N: 1 << 10, R: 8, P: 1} }
