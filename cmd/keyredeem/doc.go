// Command keyredeem redeems every unredeemed Steam key in a Humble Bundle
// account.
//
// `keyredeem run` fetches the inventory, files friend keys and owned titles,
// redeems the rest one at a time, then retries errored keys. Outcomes land in
// per-bucket CSV files under the ledger directory so a second run only touches
// keys that have not settled. `keyredeem reconcile`, `keyredeem ledger`, and
// `keyredeem config` cover maintenance.
//
// Exit status: 0 success, 1 failure, 2 the storefront or registrar needs a
// fresh login, 130 interrupted.
package main
