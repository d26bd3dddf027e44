package models

// Common fallback values used across the application
const (
	// NAValue is the placeholder for missing reference fields (vehicle name,
	// plate, bus type, and so on).
	NAValue = "N/A"

	// UnknownValue is the fallback when a referenced document cannot be found
	// at all.
	UnknownValue = "Unknown"
)
