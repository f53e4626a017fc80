// Package directory defines the identity-directory client used by the
// migration activities: user lookup, meeting discovery, meeting creation
// and cancellation. Implementations wrap a concrete directory API (Graph,
// LDAP-backed calendars, test doubles); the Memory implementation backs
// the test suite.
package directory
