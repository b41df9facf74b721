package chardev

// Reverse reverses b in place. A trailing '\n' is not moved.
func Reverse(b []byte) {
	end := len(b) - 1
	if end >= 0 && b[end] == '\n' {
		end--
	}
	for start := 0; start < end; start, end = start+1, end-1 {
		b[start], b[end] = b[end], b[start]
	}
}
