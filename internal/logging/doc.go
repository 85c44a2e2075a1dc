// Package logging provides the log backend shared by every mleschat
// component, built on go-logging.
package logging
