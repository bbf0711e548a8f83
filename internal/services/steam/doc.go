// Package steam is the registrar client. It submits key values for
// activation, checks the login, and builds the owned-app catalog used to
// skip titles the account already has.
//
// Activation calls are paced by a token bucket so bursts cannot trip the
// registrar's failure limit by themselves.
package steam
