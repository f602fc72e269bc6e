// Package account defines the pool's account record, its status
// enumeration, and pool-wide statistics derived from a set of accounts.
package account
