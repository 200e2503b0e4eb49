// Package checker defines the domain vocabulary shared by every stage of a
// link-checking run: credentials, tasks, pages, outcomes, and the interfaces
// that sessions, logs, and observers implement. It also owns input extraction
// and URL normalization so every component agrees on task identity.
package checker
