// Package app composes the credit ledger into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── credit/         # Balances and ledger transactions
//	│   └── user/           # Directory users
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # CreditStore, UserDirectory, Pinger
//	│   ├── memory/         # In-memory implementation for testing
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic (credits)
//	├── httpapi/            # HTTP handlers, middleware, audit trail
//	├── auth/               # API key, HMAC signature and nonce checks
//	├── system/             # Lifecycle management
//	└── metrics/            # Prometheus metrics
//
// The app package wires services to their stores and exposes lifecycle
// hooks; business rules live in internal/app/services/, persistence in
// internal/app/storage/, and transport concerns in internal/app/httpapi/.
// The runtime package layers configuration, database and HTTP server setup
// on top of this composition for the production binary.
package app
