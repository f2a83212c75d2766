package domain

import "bytes"

// Item is one opaque item record held in a vault slot.
//
// Kind names the item type, Count is the stack size, and Data carries
// renderer-defined metadata that the vault core never interprets.
type Item struct {
	Kind  string
	Count int
	Data  []byte
}

// Equal reports whether two item records hold the same value.
func (i Item) Equal(other Item) bool {
	return i.Kind == other.Kind && i.Count == other.Count && bytes.Equal(i.Data, other.Data)
}

// ItemsEqual compares two optional item records, treating nil as empty.
func ItemsEqual(a, b *Item) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Equal(*b)
}

func cloneItem(item *Item) *Item {
	if item == nil {
		return nil
	}
	clone := Item{Kind: item.Kind, Count: item.Count}
	if item.Data != nil {
		clone.Data = append([]byte(nil), item.Data...)
	}
	return &clone
}
