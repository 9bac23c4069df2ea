// Package domain contains the clinic record types that flow between units of
// work and their subscribers. Values of these types are the payloads of the
// event bus channels, so they are plain data with no infrastructure
// dependencies.
package domain
