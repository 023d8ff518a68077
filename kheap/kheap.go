// Package kheap implements the kernel's fixed-region dynamic allocator
// (§4.1's "kernel heap" component): a bump allocator (sbrk) backing a
// first-fit free-list malloc/free pair. Grounded on
// original_source/lab5/jos/kern/kmalloc.c's kheap_sbrk/kmalloc/kfree
// shape — a fixed-size byte array whose top grows monotonically,
// guarded by an out-of-bounds panic — generalized from kmalloc.c's
// delegation to an unseen `_malloc`/`_free` library into an explicit
// first-fit block list, in the teacher's singleton-with-mutex style
// (mem.Physmem).
package kheap

import "sync"

// blockHeader precedes every block this allocator hands out, whether
// free or in use, forming an intrusive singly linked list across the
// whole heap region in address order.
type blockHeader struct {
	size int // payload size in bytes, excluding this header
	free bool
	next int // byte offset of the next block, or -1
}

const headerSize = 16 // fixed overhead per block in the simulated heap

// Heap is a fixed-size kernel heap: a byte arena plus a first-fit
// free-list allocator over it (§4.1). Constructed explicitly (§9
// design notes) rather than as a package-level global, mirroring
// kmalloc.c's single static kheap array but without the ambient
// global.
type Heap struct {
	mu    sync.Mutex
	arena []byte
	top   int // kheap_sbrk's bump pointer, an offset into arena
	head  int // offset of the first block, or -1 if none yet
}

// NewHeap builds a heap over a byte region of the given size.
func NewHeap(size int) *Heap {
	return &Heap{arena: make([]byte, size), top: 0, head: -1}
}

// sbrk extends the heap's bump region by nbytes and returns the
// offset of the newly available space, panicking if the request would
// run the heap out of bounds — the same fatal-on-overrun behavior as
// kheap_sbrk (§4.1: a kernel-internal allocator failure is a kernel
// bug, not a recoverable condition).
func (h *Heap) sbrk(nbytes int) int {
	if nbytes < 0 || h.top+nbytes > len(h.arena) {
		panic("kheap: allocation out of bounds")
	}
	ret := h.top
	h.top += nbytes
	return ret
}

func (h *Heap) header(off int) *blockHeader {
	return decodeHeader(h.arena[off : off+headerSize])
}

// decodeHeader and (*Heap).encode keep blockHeader's wire
// representation explicit rather than reinterpreting the byte slice in
// place, since this module has no unsafe-pointer aliasing the way the
// teacher's packed PTE layouts do.
func decodeHeader(buf []byte) *blockHeader {
	size := int(uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24)
	free := buf[4] != 0
	next := int(int32(uint32(buf[8]) | uint32(buf[9])<<8 | uint32(buf[10])<<16 | uint32(buf[11])<<24))
	return &blockHeader{size: size, free: free, next: next}
}

func (h *Heap) encode(off int, b *blockHeader) {
	buf := h.arena[off : off+headerSize]
	s := uint32(b.size)
	buf[0], buf[1], buf[2], buf[3] = byte(s), byte(s>>8), byte(s>>16), byte(s>>24)
	if b.free {
		buf[4] = 1
	} else {
		buf[4] = 0
	}
	n := uint32(int32(b.next))
	buf[8], buf[9], buf[10], buf[11] = byte(n), byte(n>>8), byte(n>>16), byte(n>>24)
}

// Malloc allocates nbytes from the heap (§4.1), first-fitting an
// existing free block before extending the arena via sbrk. It panics
// if the heap is exhausted, matching kmalloc.c's all allocation
// failures being fatal kernel conditions.
func (h *Heap) Malloc(nbytes int) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	for off := h.head; off != -1; {
		b := h.header(off)
		if b.free && b.size >= nbytes {
			b.free = false
			h.encode(off, b)
			return off + headerSize
		}
		off = b.next
	}

	hdrOff := h.sbrk(headerSize)
	payloadOff := h.sbrk(nbytes)
	b := &blockHeader{size: nbytes, free: false, next: -1}
	h.encode(hdrOff, b)

	if h.head == -1 {
		h.head = hdrOff
	} else {
		tail := h.head
		for {
			tb := h.header(tail)
			if tb.next == -1 {
				tb.next = hdrOff
				h.encode(tail, tb)
				break
			}
			tail = tb.next
		}
	}
	return payloadOff
}

// Free releases a block previously returned by Malloc, making it
// available for reuse by a later first-fit search. Freeing an offset
// not obtained from Malloc is undefined, as in kfree.
func (h *Heap) Free(payloadOff int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hdrOff := payloadOff - headerSize
	b := h.header(hdrOff)
	if b.free {
		panic("kheap: double free")
	}
	b.free = true
	h.encode(hdrOff, b)
}

// Bytes returns a slice view of the payload at off with the given
// length, for reading or writing allocated storage.
func (h *Heap) Bytes(off, length int) []byte {
	return h.arena[off : off+length]
}
