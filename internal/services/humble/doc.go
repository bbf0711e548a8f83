// Package humble is the storefront client: it lists the user's orders,
// reveals keys, and keeps the login session warm. All traffic goes through
// a session.RemoteSession so the same client works over plain HTTP or a
// browser tab.
package humble
