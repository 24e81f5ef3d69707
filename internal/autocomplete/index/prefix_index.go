package index

import (
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/autocomplete/techstack"
)

// PrefixIndex maps tech-stack keywords to the set of portfolios listing them.
//
// The keyword tree is immutable: every mutation commits a new tree and
// publishes it through an atomic pointer, so readers never lock and always
// observe a whole committed state. Writers serialize on mu. Id sets stored in
// a published tree are never modified in place; mutations clone them first.
// A keyword whose id set becomes empty is deleted from the tree.
type PrefixIndex struct {
	mu   sync.Mutex
	tree atomic.Pointer[iradix.Tree]
}

func NewPrefixIndex() *PrefixIndex {
	p := &PrefixIndex{}
	p.tree.Store(iradix.New())
	return p
}

// Rebuild discards every entry and indexes records from scratch. Records
// with a nil tech stack contribute nothing. Concurrent mutations wait until
// the new tree is published; readers keep seeing the previous tree until then.
func (p *PrefixIndex) Rebuild(records []Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sets := make(map[string]*roaring64.Bitmap)
	for _, rec := range records {
		for _, kw := range techstack.Extract(rec.TechStack) {
			ids, ok := sets[kw]
			if !ok {
				ids = roaring64.New()
				sets[kw] = ids
			}
			ids.Add(uint64(rec.ID))
		}
	}

	txn := iradix.New().Txn()
	for kw, ids := range sets {
		ids.RunOptimize()
		txn.Insert([]byte(kw), ids)
	}
	p.tree.Store(txn.Commit())
}

// Insert records that portfolio id lists keyword.
func (p *PrefixIndex) Insert(keyword string, id int64) {
	p.update(func(txn *iradix.Txn) bool {
		return insert(txn, keyword, id)
	})
}

// Remove drops id from keyword. Removing an id or keyword that is not
// indexed is a no-op.
func (p *PrefixIndex) Remove(keyword string, id int64) {
	p.update(func(txn *iradix.Txn) bool {
		return remove(txn, keyword, id)
	})
}

// InsertAll indexes id under every keyword in a single commit.
func (p *PrefixIndex) InsertAll(keywords []string, id int64) {
	p.Replace(id, nil, keywords)
}

// RemoveAll drops id from every keyword in a single commit.
func (p *PrefixIndex) RemoveAll(keywords []string, id int64) {
	p.Replace(id, keywords, nil)
}

// Replace removes id from every keyword in old, then adds it to every
// keyword in new, and publishes the result as one commit.
func (p *PrefixIndex) Replace(id int64, old, new []string) {
	p.update(func(txn *iradix.Txn) bool {
		changed := false
		for _, kw := range old {
			changed = remove(txn, kw, id) || changed
		}
		for _, kw := range new {
			changed = insert(txn, kw, id) || changed
		}
		return changed
	})
}

// Set makes keywords the complete list of keywords id is indexed under: id
// is dropped from every other keyword and added to each of these, in one
// commit. Set with no keywords removes id from the index entirely.
func (p *PrefixIndex) Set(id int64, keywords []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tree := p.tree.Load()
	keep := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		keep[kw] = struct{}{}
	}
	var stale []string
	tree.Root().Walk(func(k []byte, v interface{}) bool {
		if _, ok := keep[string(k)]; !ok && v.(*roaring64.Bitmap).Contains(uint64(id)) {
			stale = append(stale, string(k))
		}
		return false
	})

	txn := tree.Txn()
	changed := false
	for _, kw := range stale {
		changed = remove(txn, kw, id) || changed
	}
	for _, kw := range keywords {
		changed = insert(txn, kw, id) || changed
	}
	if changed {
		p.tree.Store(txn.Commit())
	}
}

// Keywords returns every keyword id is indexed under, sorted.
func (p *PrefixIndex) Keywords(id int64) []string {
	var keywords []string
	p.tree.Load().Root().Walk(func(k []byte, v interface{}) bool {
		if v.(*roaring64.Bitmap).Contains(uint64(id)) {
			keywords = append(keywords, string(k))
		}
		return false
	})
	return keywords
}

// QueryPrefix returns every indexed keyword starting with prefix in
// lexicographic byte order. An empty prefix returns all keywords.
func (p *PrefixIndex) QueryPrefix(prefix string) []string {
	return p.QueryPrefixLimit(prefix, 0)
}

// QueryPrefixLimit is QueryPrefix capped at limit results; limit <= 0 means
// no cap.
func (p *PrefixIndex) QueryPrefixLimit(prefix string, limit int) []string {
	keywords := make([]string, 0)
	p.tree.Load().Root().WalkPrefix([]byte(prefix), func(k []byte, _ interface{}) bool {
		keywords = append(keywords, string(k))
		return limit > 0 && len(keywords) >= limit
	})
	return keywords
}

// IDs returns the portfolios listing keyword in ascending order.
func (p *PrefixIndex) IDs(keyword string) []int64 {
	v, ok := p.tree.Load().Get([]byte(keyword))
	if !ok {
		return nil
	}
	return toIDs(v.(*roaring64.Bitmap))
}

// Len returns the number of live keywords.
func (p *PrefixIndex) Len() int {
	return p.tree.Load().Len()
}

// Snapshot returns every entry sorted by keyword.
func (p *PrefixIndex) Snapshot() []Entry {
	tree := p.tree.Load()
	entries := make([]Entry, 0, tree.Len())
	tree.Root().Walk(func(k []byte, v interface{}) bool {
		entries = append(entries, Entry{
			Keyword: string(k),
			IDs:     toIDs(v.(*roaring64.Bitmap)),
		})
		return false
	})
	return entries
}

func (p *PrefixIndex) update(fn func(txn *iradix.Txn) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	txn := p.tree.Load().Txn()
	if fn(txn) {
		p.tree.Store(txn.Commit())
	}
}

func insert(txn *iradix.Txn, keyword string, id int64) bool {
	if keyword == "" {
		return false
	}
	key := []byte(keyword)
	var ids *roaring64.Bitmap
	if v, ok := txn.Get(key); ok {
		current := v.(*roaring64.Bitmap)
		if current.Contains(uint64(id)) {
			return false
		}
		ids = current.Clone()
	} else {
		ids = roaring64.New()
	}
	ids.Add(uint64(id))
	txn.Insert(key, ids)
	return true
}

func remove(txn *iradix.Txn, keyword string, id int64) bool {
	key := []byte(keyword)
	v, ok := txn.Get(key)
	if !ok {
		return false
	}
	current := v.(*roaring64.Bitmap)
	if !current.Contains(uint64(id)) {
		return false
	}
	if current.GetCardinality() == 1 {
		txn.Delete(key)
		return true
	}
	ids := current.Clone()
	ids.Remove(uint64(id))
	txn.Insert(key, ids)
	return true
}

func toIDs(b *roaring64.Bitmap) []int64 {
	raw := b.ToArray()
	ids := make([]int64, len(raw))
	for i, v := range raw {
		ids[i] = int64(v)
	}
	return ids
}
