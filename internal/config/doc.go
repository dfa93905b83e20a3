// Package config handles configuration loading for inbox-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment
// variable expansion. Files ending in .toml are decoded as TOML; anything
// else is YAML. Missing optional fields receive defaults and the result is
// validated before use.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from INBOX_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/inbox/gateway.yaml
//  3. ~/.config/inbox/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${INBOX_JWT_SECRET}"
//	whatsapp:
//	  api_token: "${WHATSAPP_TOKEN}"
//
// Unset variables expand to the empty string. INBOX_DB_PATH, when set,
// overrides database.path after expansion.
//
// # Example
//
//	server:
//	  http_addr: ":8080"
//
//	database:
//	  path: "~/.local/share/inbox/inbox.db"
//
//	auth:
//	  jwt_secret: "${INBOX_JWT_SECRET}"   # at least 32 bytes
//	  token_ttl: "24h"
//
//	whatsapp:
//	  api_url: "https://graph.facebook.com/v22.0"
//	  api_token: "${WHATSAPP_TOKEN}"
//	  phone_number_id: "${WHATSAPP_PHONE_NUMBER_ID}"
//	  verify_token: "${WHATSAPP_VERIFY_TOKEN}"
//	  request_timeout: "15s"
//	  dedupe_ttl: "1h"
//
//	events:
//	  amqp_url: ""                  # optional RabbitMQ relay
//	  amqp_exchange: "inbox.events"
//
//	realtime:
//	  allowed_origins: []           # empty allows any origin
//
//	tailscale:
//	  enabled: false
//	  hostname: "inbox"
//	  funnel: false                 # public webhook ingress
//
//	logging:
//	  level: "info"                 # debug, info, warn, error
//	  format: "text"                # text or json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Durations
//
// Durations use Go syntax ("15s", "5m", "24h") and are parsed after
// decoding. An unparseable duration fails Load with the field name.
package config
