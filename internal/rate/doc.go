// Package rate implements the default fixed-window Redis rate limiter used
// to guard authentication endpoints.
package rate
