// Package cart defines the customer's cart, its line items, and the
// fulfillment choice that is priced and ordered against it.
package cart
