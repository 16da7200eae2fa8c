package epoch

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/golang/snappy"
)

// WriteSnapshot writes a point-in-time diagnostic snapshot of the collector to
// the given writer: global epoch, registry entries, queued garbage bags and
// the operation stats. The detail section is snappy compressed. The walk races
// with live operations, so the snapshot is approximate; it is meant for
// offline inspection of a misbehaving collector, not for reloading state.
func (c *Collector) WriteSnapshot(out io.Writer) (int, error) {
	written := 0

	var body bytes.Buffer

	i := 0
	curr := c.participants.rawLoad()
	for !curr.IsNil() {
		e := (*participant)(curr.Pointer())
		next := e.next.rawLoad()
		deleted := 0
		if next.Tag() == tagDeleted {
			deleted = 1
		}
		fmt.Fprintf(&body, "participant %d state %d deleted %d\n", i, atomic.LoadUint64(&e.state), deleted)
		curr = next
		i++
	}
	participants := i

	i = 0
	head := atomic.LoadPointer(&c.garbage.head)
	next := atomic.LoadPointer(&(*bag)(head).next)
	for next != nil {
		b := (*bag)(next)
		fmt.Fprintf(&body, "bag %d epoch %d objects %d\n", i, uint64(b.epoch), b.count)
		next = atomic.LoadPointer(&b.next)
		i++
	}
	bags := i

	stats := make(map[string]interface{})
	c.Stats(stats)
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&body, "stat %s %v\n", k, stats[k])
	}

	buf := snappy.Encode(nil, body.Bytes())

	n, err := fmt.Fprintf(out, "epoch %d\nparticipants %d\nbags %d\ncompression snappy\nsize %d\n", c.Epoch(), participants, bags, len(buf))
	if err != nil {
		return written + n, err
	}
	written += n

	n, err = out.Write(buf)
	written += n
	return written, err
}

// ReadSnapshot parses a snapshot previously written with WriteSnapshot. It
// returns the header values and the decompressed detail section.
func ReadSnapshot(in io.Reader) (header map[string]uint64, detail []byte, err error) {
	reader := bufio.NewReader(in)
	header = make(map[string]uint64)
	var size uint64
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return nil, nil, err
		}
		// trim \n
		line = line[:len(line)-1]
		space := bytes.IndexByte(line, ' ')
		if space < 0 {
			return nil, nil, fmt.Errorf("corrupted snapshot, bad header line %q", line)
		}
		key := string(line[:space])
		if key == "compression" {
			if v := string(line[space+1:]); v != "snappy" {
				return nil, nil, fmt.Errorf("unsupported snapshot compression %q", v)
			}
			continue
		}
		v, _ := strconv.ParseUint(string(line[space+1:]), 10, 64)
		header[key] = v
		if key == "size" {
			size = v
			break
		}
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return nil, nil, err
	}
	detail, err = snappy.Decode(nil, buf)
	if err != nil {
		return nil, nil, fmt.Errorf("corrupted snapshot, decompressing detail section failed : %w", err)
	}
	return header, detail, nil
}
