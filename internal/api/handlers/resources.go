// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/saltyskip/cthulu/internal/domain"
	"github.com/saltyskip/cthulu/internal/events"
	"github.com/saltyskip/cthulu/internal/store"
)

// ResourceStore is the subset of store.Store[T] a ResourceHandler needs.
// store.Store[T] satisfies this directly for any T.
type ResourceStore[T store.Identifiable] interface {
	List() []T
	Get(id string) (T, bool)
	Save(value T) error
	Delete(id string) (bool, error)
}

// ResourceHandler implements the CRUD surface spec.md §6 asks for
// "Flows" and says is "analogous" for agents and prompts: List/Create,
// Get/Update/Delete by id, each publishing a ResourceChangeEvent on the
// change bus per spec.md §4.A/§4.C so the HTTP path and the file watcher
// path both drive the same stream.
//
// One instance of this generic type is mounted per resource type,
// generalizing store.Store[T]'s own generic pattern up to the handler
// layer instead of writing three near-identical handler structs the way
// the teacher's cases.go/crashes.go/worktrees.go each hand-roll their own
// CRUD surface over a single concrete type.
type ResourceHandler[T store.Identifiable] struct {
	store        ResourceStore[T]
	bus          events.EventBus
	resourceType domain.ResourceType

	// assignID stamps a fresh id (and any creation-time fields) onto a
	// freshly decoded value before the first Save.
	assignID func(T) T
	// withID returns the decoded request body with its id set to the path
	// id (and any update-time fields stamped). Fields missing from the
	// body are not copied over from the stored value.
	withID func(body T, id string) T
}

// NewResourceHandler creates a ResourceHandler for one resource type.
func NewResourceHandler[T store.Identifiable](s ResourceStore[T], bus events.EventBus, resourceType domain.ResourceType, assignID func(T) T, withID func(T, string) T) *ResourceHandler[T] {
	return &ResourceHandler[T]{store: s, bus: bus, resourceType: resourceType, assignID: assignID, withID: withID}
}

func (h *ResourceHandler[T]) publish(ctx context.Context, change domain.ChangeType, id string) {
	if h.bus == nil {
		return
	}
	evt := domain.ResourceChangeEvent{
		ResourceType: h.resourceType,
		ChangeType:   change,
		ResourceID:   id,
		Timestamp:    time.Now(),
	}
	h.bus.Publish(ctx, events.Event{
		ID:        uuid.New().String(),
		Type:      events.TypeResourceChange,
		Timestamp: evt.Timestamp,
		Payload:   evt,
	})
}

// List returns every value of T.
func (h *ResourceHandler[T]) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.store.List())
}

// Get returns one value of T by id.
func (h *ResourceHandler[T]) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	value, ok := h.store.Get(id)
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "resource not found: "+id)
		return
	}
	WriteJSON(w, http.StatusOK, value)
}

// Create decodes a new T, assigns it an id, saves it, and publishes a
// "created" ResourceChangeEvent, per spec.md §8 scenario 3 (the HTTP
// path is the sole publisher for its own write; the watcher suppresses
// the matching self-write).
func (h *ResourceHandler[T]) Create(w http.ResponseWriter, r *http.Request) {
	var value T
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}
	value = h.assignID(value)

	if err := h.store.Save(value); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	h.publish(r.Context(), domain.ChangeCreated, value.ResourceID())
	WriteJSON(w, http.StatusCreated, value)
}

// Update decodes T over the existing value's id (the path id wins over
// any id in the body) and republishes it.
func (h *ResourceHandler[T]) Update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := h.store.Get(id); !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "resource not found: "+id)
		return
	}

	var body T
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	value := h.withID(body, id)

	if err := h.store.Save(value); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	h.publish(r.Context(), domain.ChangeUpdated, id)
	WriteJSON(w, http.StatusOK, value)
}

// Delete removes a value by id and publishes a "deleted" change.
func (h *ResourceHandler[T]) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	existed, err := h.store.Delete(id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	if !existed {
		WriteError(w, http.StatusNotFound, ErrNotFound, "resource not found: "+id)
		return
	}
	h.publish(r.Context(), domain.ChangeDeleted, id)
	w.WriteHeader(http.StatusNoContent)
}
