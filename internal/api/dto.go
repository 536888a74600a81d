package api

import (
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/pageservice"
)

// CreatePageRequest is the request body for creating a page.
type CreatePageRequest struct {
	Name    string `json:"name" example:"Projects:Ansuz" validate:"required"`
	Content string `json:"content" example:"# Ansuz\nNotes" validate:"required"`
}

// UpdatePageRequest is the request body for updating a page.
type UpdatePageRequest struct {
	Content string `json:"content" example:"# Updated\nContent" validate:"required"`
}

// MovePageRequest is the request body for moving a page.
type MovePageRequest struct {
	From string `json:"from" example:"Inbox:Draft" validate:"required"`
	To   string `json:"to" example:"Projects:Draft" validate:"required"`
}

// PlaceholderRequest is the request body for touching a placeholder.
type PlaceholderRequest struct {
	Name string `json:"name" example:"Projects:Upcoming" validate:"required"`
}

// PropertyRequest is the request body for setting a cache property.
type PropertyRequest struct {
	Value string `json:"value" example:"en_US" validate:"required"`
}

// PageDetail is the full page response type (aliased from the domain layer).
type PageDetail = pageservice.PageDetail

// PageListResponse wraps page listings.
type PageListResponse struct {
	Pages []models.PageMetadata `json:"pages" validate:"required"`
	Total int                   `json:"total" example:"42" validate:"required"`
}

// BacklinkResponse wraps a backlink query.
type BacklinkResponse struct {
	Target    string        `json:"target" validate:"required"`
	Backlinks []models.Link `json:"backlinks" validate:"required"`
}

// TagListResponse wraps the known tags.
type TagListResponse struct {
	Tags []pageservice.TagCount `json:"tags" validate:"required"`
}

// PropertyResponse is one raw cache property.
type PropertyResponse struct {
	Key   string `json:"key" example:"locale" validate:"required"`
	Value string `json:"value" example:"en_US" validate:"required"`
}

// StatusResponse reports the cache state.
type StatusResponse = pageservice.Status
