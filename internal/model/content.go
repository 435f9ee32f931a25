package model

import (
	"encoding/json"
	"fmt"
)

// FieldSource is implemented by values the engine can resolve dotted field
// paths against. Unknown names fall back to the raw payload mapping, so rules
// can reference fields the typed DTOs don't model.
type FieldSource interface {
	Field(name string) (any, bool)
}

// Content is a deserialized review object: one of Thread, Post, or Comment.
type Content interface {
	FieldSource

	// Kind returns the concrete object type ("thread", "post", "comment").
	Kind() string
	// Text returns the body text.
	Text() string
	// FullText returns all human-visible text (title plus body for threads).
	FullText() string
}

// Author identifies the user that produced a content object.
type Author struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Level int    `json:"level"`

	raw map[string]any
}

// Field implements FieldSource.
func (a Author) Field(name string) (any, bool) {
	switch name {
	case "id":
		return a.ID, true
	case "name":
		return a.Name, true
	case "level":
		return a.Level, true
	}
	v, ok := a.raw[name]
	return v, ok
}

// Thread is a top-level forum thread.
type Thread struct {
	TID       int64  `json:"tid"`
	FID       int64  `json:"fid"`
	Title     string `json:"title"`
	Body      string `json:"text"`
	Author    Author `json:"author"`
	ReplyNum  int    `json:"reply_num"`
	CreatedAt int64  `json:"create_time"`

	raw map[string]any
}

func (t *Thread) Kind() string     { return string(TargetThread) }
func (t *Thread) Text() string     { return t.Body }
func (t *Thread) FullText() string { return t.Title + "\n" + t.Body }

// Field implements FieldSource.
func (t *Thread) Field(name string) (any, bool) {
	switch name {
	case "tid":
		return t.TID, true
	case "fid":
		return t.FID, true
	case "title":
		return t.Title, true
	case "text":
		return t.Body, true
	case "author":
		return t.Author, true
	case "reply_num":
		return t.ReplyNum, true
	case "create_time":
		return t.CreatedAt, true
	}
	v, ok := t.raw[name]
	return v, ok
}

// Post is a reply within a thread.
type Post struct {
	PID       int64  `json:"pid"`
	TID       int64  `json:"tid"`
	FID       int64  `json:"fid"`
	Floor     int    `json:"floor"`
	Body      string `json:"text"`
	Author    Author `json:"author"`
	CreatedAt int64  `json:"create_time"`

	raw map[string]any
}

func (p *Post) Kind() string     { return string(TargetPost) }
func (p *Post) Text() string     { return p.Body }
func (p *Post) FullText() string { return p.Body }

// Field implements FieldSource.
func (p *Post) Field(name string) (any, bool) {
	switch name {
	case "pid":
		return p.PID, true
	case "tid":
		return p.TID, true
	case "fid":
		return p.FID, true
	case "floor":
		return p.Floor, true
	case "text":
		return p.Body, true
	case "author":
		return p.Author, true
	case "create_time":
		return p.CreatedAt, true
	}
	v, ok := p.raw[name]
	return v, ok
}

// Comment is a lightweight reply attached to a post.
type Comment struct {
	CID       int64  `json:"cid"`
	PID       int64  `json:"pid"`
	TID       int64  `json:"tid"`
	FID       int64  `json:"fid"`
	Body      string `json:"text"`
	Author    Author `json:"author"`
	CreatedAt int64  `json:"create_time"`

	raw map[string]any
}

func (c *Comment) Kind() string     { return string(TargetComment) }
func (c *Comment) Text() string     { return c.Body }
func (c *Comment) FullText() string { return c.Body }

// Field implements FieldSource.
func (c *Comment) Field(name string) (any, bool) {
	switch name {
	case "cid":
		return c.CID, true
	case "pid":
		return c.PID, true
	case "tid":
		return c.TID, true
	case "fid":
		return c.FID, true
	case "text":
		return c.Body, true
	case "author":
		return c.Author, true
	case "create_time":
		return c.CreatedAt, true
	}
	v, ok := c.raw[name]
	return v, ok
}

// Deserialize builds a typed content object from a decoded message payload.
// The raw mapping is retained for fallback field resolution of attributes
// the typed DTOs don't model.
func Deserialize(objectType string, payload map[string]any) (Content, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	authorRaw, _ := payload["author"].(map[string]any)

	switch TargetType(objectType) {
	case TargetThread:
		var t Thread
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("decode thread: %w", err)
		}
		t.raw = payload
		t.Author.raw = authorRaw
		return &t, nil
	case TargetPost:
		var p Post
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode post: %w", err)
		}
		p.raw = payload
		p.Author.raw = authorRaw
		return &p, nil
	case TargetComment:
		var c Comment
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode comment: %w", err)
		}
		c.raw = payload
		c.Author.raw = authorRaw
		return &c, nil
	}
	return nil, fmt.Errorf("unknown object type %q", objectType)
}
