// Package config loads gateway configuration.
//
// Sources, in order of precedence (last wins):
//  1. YAML file with ${VAR} expansion
//  2. Environment overrides using the provider/Auth0 variable names
//     (FINNHUB_API_KEY, QUOTE_FALLBACK_MS, AUTH0_ISSUER_URL, ...)
//
// A .env file may be loaded into the process environment first via LoadDotEnv.
package config
