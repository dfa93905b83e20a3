// Package whatsapp is the gateway's messaging provider: a WhatsApp Cloud API
// (Graph API) client plus webhook decoding.
//
// Client sends text and media messages and read receipts. Media is uploaded
// first: the file is downloaded from its URL and posted to /{phone}/media,
// and the returned media id is referenced in the message. Failures from the
// API are returned as *ProviderError.
//
// Provider message ids that don't satisfy IsValidMessageID are treated as
// local-only and never sent back to the API.
package whatsapp
