// Package agent contains the polling loop that tags every observed pod with
// its top-level owners, and the sinks the resulting records are published to.
package agent
