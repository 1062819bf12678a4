package egressproxy

import (
	"container/list"
	"time"
)

// lruIndex tracks cached items for LRU eviction.
type lruIndex struct {
	items map[string]*lruItem
	list  *list.List
}

type lruItem struct {
	key      string
	size     int64
	lastUsed time.Time
	element  *list.Element
}

func newLRUIndex() *lruIndex {
	return &lruIndex{
		items: make(map[string]*lruItem),
		list:  list.New(),
	}
}

func (idx *lruIndex) add(key string, size int64) {
	now := time.Now()

	if item, exists := idx.items[key]; exists {
		item.size = size
		item.lastUsed = now
		idx.list.MoveToBack(item.element)
	} else {
		item := &lruItem{key: key, size: size, lastUsed: now}
		item.element = idx.list.PushBack(item)
		idx.items[key] = item
	}
}

func (idx *lruIndex) access(key string) {
	if item, exists := idx.items[key]; exists {
		item.lastUsed = time.Now()
		idx.list.MoveToBack(item.element)
	}
}

func (idx *lruIndex) exists(key string) bool {
	_, exists := idx.items[key]
	return exists
}

func (idx *lruIndex) remove(key string) {
	if item, exists := idx.items[key]; exists {
		idx.list.Remove(item.element)
		delete(idx.items, key)
	}
}

func (idx *lruIndex) evict() (key string, size int64) {
	element := idx.list.Front()
	if element == nil {
		return "", 0
	}
	item := element.Value.(*lruItem)
	idx.list.Remove(element)
	delete(idx.items, item.key)
	return item.key, item.size
}

func (idx *lruIndex) size() int {
	return len(idx.items)
}
