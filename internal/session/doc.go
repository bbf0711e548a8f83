// Package session holds the authenticated connection to the storefront and
// the guardian that rebuilds it when it dies.
//
// RemoteSession has two implementations. HTTPSession sends requests
// directly with the user's session cookie. BrowserSession drives an
// already logged-in browser tab over the Chrome DevTools Protocol and runs
// each request as a fetch inside the page, so requests carry whatever
// cookies and anti-bot state the browser holds.
//
// Guardian counts consecutive session failures, reinitializes the session
// once a threshold is crossed, and enforces a run-wide recovery budget.
package session
