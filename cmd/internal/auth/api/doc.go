// Package authapi exposes the authentication HTTP surface: registration,
// email verification, login (password and Google), cookie-carried token
// refresh, logout, device session management and password recovery.
//
// Tokens travel in two http-only cookies, accessToken and refreshToken,
// always set and cleared together. The guard middleware distinguishes an
// expired access token from an invalid one so clients get exactly one
// silent refresh retry before a hard logout.
package authapi
