package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"

	"fieldresearch.ai/internal/sim/research/frontend"
)

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

// StateDigest hashes everything that influences future steps, in a fixed
// order. Two colonies with equal digests at a tick step identically.
func (w *World) StateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	w.digestResearch(h, &tmp)
	w.digestPawns(h, &tmp)
	w.digestThings(h, &tmp)
	w.digestReservations(h)

	return hex.EncodeToString(h.Sum(nil))
}

func (w *World) digestResearch(h hashWriter, tmp *[8]byte) {
	st := w.eng.ExportSnapshot()
	digestWriteString(h, st.ActiveObjective)
	ids := make([]string, 0, len(st.Objectives))
	for id := range st.Objectives {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		digestWriteString(h, id)
		digestWriteF64(h, tmp, st.Objectives[id])
	}
	for _, is := range st.Instances {
		digestWriteString(h, is.DefinitionID)
		digestWriteF64(h, tmp, is.Progress)
		h.Write([]byte{boolByte(is.Finished)})
	}
}

func (w *World) digestPawns(h hashWriter, tmp *[8]byte) {
	for _, id := range w.pawnOrder {
		p := w.pawns[id]
		digestWriteString(h, p.id)
		digestWriteI64(h, tmp, int64(p.pos.X))
		digestWriteI64(h, tmp, int64(p.pos.Z))
		digestWriteF64(h, tmp, p.skills[frontend.SkillIntellectual])
		if p.task == nil {
			h.Write([]byte{0})
			continue
		}
		h.Write([]byte{1})
		digestWriteString(h, p.task.TaskID)
		digestWriteString(h, p.task.OpportunityID)
		digestWriteString(h, p.task.ObjectiveID)
		digestWriteI64(h, tmp, int64(p.task.WorkTicks))
	}
}

func (w *World) digestThings(h hashWriter, tmp *[8]byte) {
	for _, id := range w.thingOrder {
		t := w.things[id]
		digestWriteString(h, t.id)
		digestWriteString(h, t.template)
		digestWriteI64(h, tmp, int64(t.pos.X))
		digestWriteI64(h, tmp, int64(t.pos.Z))
		h.Write([]byte{boolByte(t.forbidden)})
	}
}

func (w *World) digestReservations(h hashWriter) {
	keys := make([]string, 0, len(w.reserved))
	for k := range w.reserved {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		digestWriteString(h, k)
		digestWriteString(h, w.reserved[k])
	}
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func digestWriteF64(h hashWriter, tmp *[8]byte, v float64) {
	digestWriteU64(h, tmp, math.Float64bits(v))
}

// digestWriteString is length-prefixed so adjacent strings cannot collide.
func digestWriteString(h hashWriter, s string) {
	var tmp [8]byte
	digestWriteU64(h, &tmp, uint64(len(s)))
	h.Write([]byte(s))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
