package proto

import "github.com/ntoll/drogulus/item"

// canonicalEnvelope serializes every field of m that the envelope
// signature covers — everything except Sig itself — using the same
// length-prefixed, explicit-width discipline as item's canonical
// encoding (spec.md §4.G "canonical form used for signing omits the
// signature field itself").
func canonicalEnvelope(m *Message) ([]byte, error) {
	var buf []byte
	buf = append(buf, byte(m.Kind))
	buf = appendUUID(buf, m.ID)
	buf = appendUUID(buf, m.InReplyTo)
	buf = appendFixed(buf, m.SenderID[:])
	buf = appendVarBytes(buf, m.SenderPublicKey)
	buf = appendUint32(buf, m.Version)

	if m.Item != nil {
		itemBytes, err := item.Marshal(m.Item)
		if err != nil {
			return nil, err
		}
		buf = append(buf, 1)
		buf = appendVarBytes(buf, itemBytes)
	} else {
		buf = append(buf, 0)
	}

	buf = appendFixed(buf, m.Target[:])

	buf = appendUint32(buf, uint32(len(m.Nodes)))
	for _, n := range m.Nodes {
		buf = appendFixed(buf, n.ID[:])
		buf = appendVarBytes(buf, []byte(n.Addr))
	}

	buf = append(buf, byte(m.Code))
	buf = appendVarBytes(buf, []byte(m.Detail))
	return buf, nil
}
