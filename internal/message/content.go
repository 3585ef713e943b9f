// Package message defines the chat message model shared by the composition
// pipeline, the stores and the file resolver.
//
// A ContentPart is a closed sum type: only the variants declared in this file
// implement it. Consumers switch over the concrete types and must handle every
// variant; the pointer variants carry a file identity and never any bytes.
package message

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Role is the author of an input message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ContentKind is the wire tag of a content part.
type ContentKind string

const (
	KindText             ContentKind = "text"
	KindToolUse          ContentKind = "tool_use"
	KindImage            ContentKind = "image"
	KindTextFilePointer  ContentKind = "text_file_pointer"
	KindImageFilePointer ContentKind = "image_file_pointer"
)

// ContentPart is one segment of message content.
type ContentPart interface {
	Kind() ContentKind
	contentPart()
}

// Text is plain text content.
type Text struct {
	Text string `json:"text"`
}

// ToolCallStatus is the lifecycle state of a tool invocation.
type ToolCallStatus string

const (
	ToolCallInProgress ToolCallStatus = "in_progress"
	ToolCallSuccess    ToolCallStatus = "success"
	ToolCallError      ToolCallStatus = "error"
)

// ToolUse records a tool call and its output.
type ToolUse struct {
	CallID          string          `json:"tool_call_id"`
	Status          ToolCallStatus  `json:"status"`
	ToolName        string          `json:"tool_name"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	Input           json.RawMessage `json:"input,omitempty"`
	Output          json.RawMessage `json:"output,omitempty"`
}

// Image is inline image content.
type Image struct {
	ContentType string `json:"mime_type"`
	Base64Data  string `json:"base64_data"`
}

// TextFilePointer references an uploaded non-image file.
type TextFilePointer struct {
	FileID uuid.UUID `json:"file_upload_id"`
}

// ImageFilePointer references an uploaded image file.
type ImageFilePointer struct {
	FileID      uuid.UUID `json:"file_upload_id"`
	DownloadURL string    `json:"download_url"`
}

func (Text) Kind() ContentKind             { return KindText }
func (ToolUse) Kind() ContentKind          { return KindToolUse }
func (Image) Kind() ContentKind            { return KindImage }
func (TextFilePointer) Kind() ContentKind  { return KindTextFilePointer }
func (ImageFilePointer) Kind() ContentKind { return KindImageFilePointer }

func (Text) contentPart()             {}
func (ToolUse) contentPart()          {}
func (Image) contentPart()            {}
func (TextFilePointer) contentPart()  {}
func (ImageFilePointer) contentPart() {}

// IsPointer reports whether part is a file pointer variant.
func IsPointer(part ContentPart) bool {
	switch part.(type) {
	case TextFilePointer, ImageFilePointer:
		return true
	}
	return false
}

// PointerFileID returns the referenced file of a pointer part.
func PointerFileID(part ContentPart) (uuid.UUID, bool) {
	switch p := part.(type) {
	case TextFilePointer:
		return p.FileID, true
	case ImageFilePointer:
		return p.FileID, true
	}
	return uuid.Nil, false
}
