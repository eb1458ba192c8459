// Package checklists exposes the static scheme/document-type/checklist
// reference catalog. Persistence of the catalog lives outside this service;
// the in-memory catalog here mirrors the seeded reference data.
package checklists

import (
	"errors"
	"fmt"
	"sync"
)

var ErrNotFound = errors.New("not found")

// Scheme is a compliance scheme (a family of checklists).
type Scheme struct {
	ID   string
	Code string
	Name string
}

// DocumentType classifies which documents a checklist applies to.
type DocumentType struct {
	ID   string
	Code string
	Name string
}

// Item is one checklist requirement evaluated against a document.
type Item struct {
	ID             string
	SchemeID       string
	DocumentTypeID string
	Code           string
	Text           string
}

// Catalog resolves reference data for evaluation requests.
type Catalog interface {
	GetScheme(id string) (Scheme, error)
	GetDocumentType(id string) (DocumentType, error)
	GetItems(ids []string) ([]Item, error)
}

// MemoryCatalog is a Catalog backed by in-process maps.
type MemoryCatalog struct {
	mu       sync.RWMutex
	schemes  map[string]Scheme
	docTypes map[string]DocumentType
	items    map[string]Item
}

// NewMemoryCatalog constructs an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		schemes:  make(map[string]Scheme),
		docTypes: make(map[string]DocumentType),
		items:    make(map[string]Item),
	}
}

// NewSeededCatalog returns a catalog loaded with the default reference data.
func NewSeededCatalog() *MemoryCatalog {
	c := NewMemoryCatalog()

	c.AddScheme(Scheme{ID: "scheme-qms", Code: "QMS", Name: "Quality Management System"})
	c.AddScheme(Scheme{ID: "scheme-isms", Code: "ISMS", Name: "Information Security Management System"})

	c.AddDocumentType(DocumentType{ID: "doctype-policy", Code: "POLICY", Name: "Policy Document"})
	c.AddDocumentType(DocumentType{ID: "doctype-procedure", Code: "PROCEDURE", Name: "Procedure Document"})
	c.AddDocumentType(DocumentType{ID: "doctype-manual", Code: "MANUAL", Name: "Manual"})

	seed := []Item{
		{ID: "item-qms-001", SchemeID: "scheme-qms", DocumentTypeID: "doctype-policy", Code: "QMS-001", Text: "The document states the organization's quality policy and objectives."},
		{ID: "item-qms-002", SchemeID: "scheme-qms", DocumentTypeID: "doctype-policy", Code: "QMS-002", Text: "Roles and responsibilities for quality management are defined."},
		{ID: "item-qms-003", SchemeID: "scheme-qms", DocumentTypeID: "doctype-procedure", Code: "QMS-003", Text: "The document describes a process for handling nonconforming outputs."},
		{ID: "item-qms-004", SchemeID: "scheme-qms", DocumentTypeID: "doctype-procedure", Code: "QMS-004", Text: "Records retention periods are specified for quality records."},
		{ID: "item-qms-005", SchemeID: "scheme-qms", DocumentTypeID: "doctype-manual", Code: "QMS-005", Text: "The scope of the quality management system is documented."},
		{ID: "item-isms-001", SchemeID: "scheme-isms", DocumentTypeID: "doctype-policy", Code: "ISMS-001", Text: "An information security policy is stated and approved by management."},
		{ID: "item-isms-002", SchemeID: "scheme-isms", DocumentTypeID: "doctype-policy", Code: "ISMS-002", Text: "The document defines access control requirements for information assets."},
		{ID: "item-isms-003", SchemeID: "scheme-isms", DocumentTypeID: "doctype-procedure", Code: "ISMS-003", Text: "An incident response process with escalation steps is described."},
		{ID: "item-isms-004", SchemeID: "scheme-isms", DocumentTypeID: "doctype-procedure", Code: "ISMS-004", Text: "Backup and recovery procedures are documented with test intervals."},
	}
	for _, item := range seed {
		c.AddItem(item)
	}
	return c
}

// AddScheme registers a scheme.
func (c *MemoryCatalog) AddScheme(s Scheme) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemes[s.ID] = s
}

// AddDocumentType registers a document type.
func (c *MemoryCatalog) AddDocumentType(dt DocumentType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docTypes[dt.ID] = dt
}

// AddItem registers a checklist item.
func (c *MemoryCatalog) AddItem(item Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[item.ID] = item
}

// GetScheme returns a scheme by id.
func (c *MemoryCatalog) GetScheme(id string) (Scheme, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	scheme, ok := c.schemes[id]
	if !ok {
		return Scheme{}, fmt.Errorf("scheme %s: %w", id, ErrNotFound)
	}
	return scheme, nil
}

// GetDocumentType returns a document type by id.
func (c *MemoryCatalog) GetDocumentType(id string) (DocumentType, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dt, ok := c.docTypes[id]
	if !ok {
		return DocumentType{}, fmt.Errorf("document type %s: %w", id, ErrNotFound)
	}
	return dt, nil
}

// GetItems resolves checklist item ids, preserving request order. Any
// unknown id fails the whole lookup.
func (c *MemoryCatalog) GetItems(ids []string) ([]Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		item, ok := c.items[id]
		if !ok {
			return nil, fmt.Errorf("checklist item %s: %w", id, ErrNotFound)
		}
		out = append(out, item)
	}
	return out, nil
}
