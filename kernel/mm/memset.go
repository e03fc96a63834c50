package mm

// Memset sets size bytes at the given address to the supplied value. Instead
// of using a for loop, this function uses log2(size) copy calls which should
// give us a speed boost as page addresses are always aligned.
func Memset(addr PhysAddr, value byte, size Size) {
	if size == 0 {
		return
	}

	ok := access(addr, uint32(size), func(target []byte) {
		// Set first element and make log2(size) optimized copies
		target[0] = value
		for index := Size(1); index < size; index *= 2 {
			copy(target[index:], target[:index])
		}
	})

	if !ok {
		panicFn(errBusFault)
	}
}

// Memcopy copies size bytes from src to dst.
func Memcopy(src, dst PhysAddr, size Size) {
	if size == 0 {
		return
	}

	bus.Lock()
	from, to := ramSlice(src, uint32(size)), ramSlice(dst, uint32(size))
	if from != nil && to != nil {
		copy(to, from)
	}
	bus.Unlock()

	if from == nil || to == nil {
		panicFn(errBusFault)
	}
}
