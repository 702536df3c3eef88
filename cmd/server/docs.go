// Package main Mailcraft Server API
//
//	@title						Mailcraft Server API
//	@version					1.0
//	@description				Payment webhook reconciliation and ESP integration for Mailcraft.
//
//	@contact.name				Mailcraft Support
//	@contact.email				support@mailcraft.local
//
//	@license.name				Proprietary
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"
//
//	@tag.name					Webhooks
//	@tag.description			Payment provider notifications
//
//	@tag.name					Billing
//	@tag.description			Plan, usage and payment state
//
//	@tag.name					ESP
//	@tag.description			Email service provider integrations
package main
