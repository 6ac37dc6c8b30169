package media

import "fmt"

var h264StartCode = []byte{0, 0, 0, 1}

// h264ParameterSets rewrites encoder output into a host bitstream buffer.
// Every NAL unit is written behind a 4-byte start code. With inject set,
// the most recent SPS and PPS are written in front of any IDR slice the
// device emitted without them. A set the chunk already carries is not
// written twice.
type h264ParameterSets struct {
	inject bool
	sps    []byte
	pps    []byte
}

func newH264ParameterSets(inject bool) *h264ParameterSets {
	return &h264ParameterSets{inject: inject}
}

// write copies chunk into dst and returns the payload size. Nothing is
// written when dst is too small for the result.
func (p *h264ParameterSets) write(dst, chunk []byte) (int, error) {
	nalus, err := scanAnnexB(chunk)
	if err != nil {
		return 0, err
	}

	// Cache first: parameter sets in this chunk apply to its own IDR.
	var hasSPS, hasPPS bool
	for _, n := range nalus {
		switch n.nalType {
		case nalTypeSPS:
			p.sps = append(p.sps[:0], n.payload...)
			hasSPS = true
		case nalTypePPS:
			p.pps = append(p.pps[:0], n.payload...)
			hasPPS = true
		}
	}

	var missing [][]byte
	if !hasSPS && len(p.sps) > 0 {
		missing = append(missing, p.sps)
	}
	if !hasPPS && len(p.pps) > 0 {
		missing = append(missing, p.pps)
	}
	injectBefore := -1
	if p.inject && len(missing) > 0 && len(p.sps) > 0 && len(p.pps) > 0 {
		for i, n := range nalus {
			if n.nalType == nalTypeIDR {
				injectBefore = i
				break
			}
		}
	}

	size := 0
	for _, n := range nalus {
		size += len(h264StartCode) + len(n.payload)
	}
	if injectBefore >= 0 {
		for _, ps := range missing {
			size += len(h264StartCode) + len(ps)
		}
	}
	if size > len(dst) {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, size, len(dst))
	}

	off := 0
	put := func(payload []byte) {
		off += copy(dst[off:], h264StartCode)
		off += copy(dst[off:], payload)
	}
	for i, n := range nalus {
		if i == injectBefore {
			for _, ps := range missing {
				put(ps)
			}
		}
		put(n.payload)
	}
	return off, nil
}
