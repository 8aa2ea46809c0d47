// Package config loads the settlement daemon configuration from a JSON file
// and converts its protocol section into engine parameters.
package config
