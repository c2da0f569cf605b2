// Package model defines shared data types used across the feed relay.
//
// Conventions:
//   - Prices: float64 in the provider's quote currency
//   - Timestamps: int64 milliseconds since Unix epoch
//   - Instrument keys: exchange-segment-qualified strings (e.g., "NSE_EQ|RELIANCE")
package model
