// Package jwt issues and verifies the access/refresh/protect token triple.
// Every token embeds a device-binding signature; refresh and protect tokens
// also embed a linkage hash of the access token they were minted with.
package jwt
