// Package huerelay provides a public facade re-exporting core types
// for external consumers of this module.
package huerelay

import (
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/color"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/document"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/queue"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/relay"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/state"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/transport"
)

// Re-export core types for external use.
type (
	// Document is a decoded hub JSON object.
	Document = document.Map
	// Category names the kind of device a change event is about.
	Category = state.Category
	// ChangeEvent describes one device state change.
	ChangeEvent = state.ChangeEvent
	// RGB is an 8-bit colour triple derived from a device's xy field.
	RGB = state.RGB
	// Snapshot is a point-in-time copy of the cached hub state.
	Snapshot = state.Snapshot
	// Gamut is a colour gamut triangle in CIE xy space.
	Gamut = color.Gamut
	// Point is a CIE xy chromaticity.
	Point = color.Point
	// Message is one entry of the outbound queue.
	Message = queue.Message
	// Request is a parsed protocol line.
	Request = relay.Request
	// ClientInfo describes a connected client.
	ClientInfo = relay.ClientInfo
	// Conn is one client connection speaking the line protocol.
	Conn = transport.Conn
)

// Category constants.
const (
	CategoryLight    = state.CategoryLight
	CategoryGroup    = state.CategoryGroup
	CategorySensor   = state.CategorySensor
	CategoryScene    = state.CategoryScene
	CategoryLightRGB = state.CategoryLightRGB
	CategoryGroupRGB = state.CategoryGroupRGB
)

// Gamut triangles.
var (
	GamutA = color.GamutA
	GamutB = color.GamutB
	GamutC = color.GamutC
)

// Protocol helpers.
var (
	ParseLine = relay.ParseLine
	Banner    = relay.Banner
	RGBToXY   = color.RGBToXY
	XYToRGB   = color.XYToRGB
	DialWS    = transport.DialWS
)
