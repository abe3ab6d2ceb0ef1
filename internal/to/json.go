// package to contains functions for converting between types.
package to

import (
	"net/http"

	"github.com/go-json-experiment/json"
)

// JSON writes the given object to the response body as JSON.
// If obj is a nil slice, an empty JSON array is written.
// If obj is a nil map, an empty JSON object is written.
// If obj is a nil pointer, a null is written.
func JSON(w http.ResponseWriter, obj any) error {
	return write(w, "application/json; charset=utf-8", obj)
}

// ActivityJSON writes the given ActivityStreams document to the response body.
func ActivityJSON(w http.ResponseWriter, obj any) error {
	return write(w, "application/activity+json; charset=utf-8", obj)
}

// JRD writes the given JSON Resource Descriptor to the response body.
func JRD(w http.ResponseWriter, obj any) error {
	return write(w, "application/jrd+json; charset=utf-8", obj)
}

// Created writes the given ActivityStreams document with a 201 status and
// a Location header pointing at location.
func Created(w http.ResponseWriter, location string, obj any) error {
	w.Header().Set("Location", location)
	return writeStatus(w, http.StatusCreated, "application/activity+json; charset=utf-8", obj)
}

func write(w http.ResponseWriter, contentType string, obj any) error {
	return writeStatus(w, http.StatusOK, contentType, obj)
}

func writeStatus(w http.ResponseWriter, status int, contentType string, obj any) error {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	return json.MarshalOptions{}.MarshalFull(json.EncodeOptions{
		Indent: "  ",
	}, w, obj)
}
