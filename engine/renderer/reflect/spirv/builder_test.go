package spirv

import "encoding/binary"

// moduleBuilder assembles small SPIR-V modules for tests.
type moduleBuilder struct {
	version uint32
	bound   uint32
	words   []uint32
}

func newModule(version uint32) *moduleBuilder {
	return &moduleBuilder{version: version, bound: 1}
}

func (b *moduleBuilder) id() uint32 {
	id := b.bound
	b.bound++
	return id
}

func (b *moduleBuilder) op(code uint32, args ...uint32) {
	b.words = append(b.words, uint32(len(args)+1)<<16|code)
	b.words = append(b.words, args...)
}

func str(s string) []uint32 {
	raw := append([]byte(s), 0)
	for len(raw)%4 != 0 {
		raw = append(raw, 0)
	}
	out := make([]uint32, len(raw)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return out
}

func (b *moduleBuilder) name(id uint32, s string) {
	b.op(opName, append([]uint32{id}, str(s)...)...)
}

func (b *moduleBuilder) entry(model ExecutionModel, name string, iface ...uint32) {
	fn := b.id()
	args := append([]uint32{uint32(model), fn}, str(name)...)
	b.op(opEntryPoint, append(args, iface...)...)
}

func (b *moduleBuilder) decorate(id, kind uint32, value ...uint32) {
	b.op(opDecorate, append([]uint32{id, kind}, value...)...)
}

func (b *moduleBuilder) memberDecorate(id, member, kind uint32, value ...uint32) {
	b.op(opMemberDecorate, append([]uint32{id, member, kind}, value...)...)
}

func (b *moduleBuilder) typeFloat() uint32 {
	id := b.id()
	b.op(opTypeFloat, id, 32)
	return id
}

func (b *moduleBuilder) typeInt(signed bool) uint32 {
	id := b.id()
	var s uint32
	if signed {
		s = 1
	}
	b.op(opTypeInt, id, 32, s)
	return id
}

func (b *moduleBuilder) typeVector(elem, n uint32) uint32 {
	id := b.id()
	b.op(opTypeVector, id, elem, n)
	return id
}

func (b *moduleBuilder) typeImage(sampledType, dim, sampled uint32) uint32 {
	id := b.id()
	b.op(opTypeImage, id, sampledType, dim, 0, 0, 0, sampled, 0)
	return id
}

func (b *moduleBuilder) typeStruct(members ...uint32) uint32 {
	id := b.id()
	b.op(opTypeStruct, append([]uint32{id}, members...)...)
	return id
}

func (b *moduleBuilder) typeRuntimeArray(elem, stride uint32) uint32 {
	id := b.id()
	b.op(opTypeRuntimeArray, id, elem)
	b.decorate(id, decorationArrayStride, stride)
	return id
}

func (b *moduleBuilder) typeArray(elem, uintType, length uint32) uint32 {
	c := b.id()
	b.op(opConstant, uintType, c, length)
	id := b.id()
	b.op(opTypeArray, id, elem, c)
	return id
}

func (b *moduleBuilder) simple(code uint32) uint32 {
	id := b.id()
	b.op(code, id)
	return id
}

func (b *moduleBuilder) variable(t uint32, storage StorageClass, name string) uint32 {
	ptr := b.id()
	b.op(opTypePointer, ptr, uint32(storage), t)
	v := b.id()
	b.op(opVariable, ptr, v, uint32(storage))
	if name != "" {
		b.name(v, name)
	}
	return v
}

func (b *moduleBuilder) resource(t uint32, storage StorageClass, name string, set, binding uint32) uint32 {
	v := b.variable(t, storage, name)
	b.decorate(v, decorationDescriptorSet, set)
	b.decorate(v, decorationBinding, binding)
	return v
}

func (b *moduleBuilder) location(v, loc uint32) uint32 {
	b.decorate(v, decorationLocation, loc)
	return v
}

func (b *moduleBuilder) bytes() []byte {
	header := []uint32{Magic, b.version, 0, b.bound, 0}
	all := append(header, b.words...)
	out := make([]byte, len(all)*4)
	for i, w := range all {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}
