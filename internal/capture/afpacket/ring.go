package afpacket

import "fmt"

// ringGeometry derives frame and block sizes that satisfy PACKET_MMAP
// alignment. Frames are TPACKET_ALIGNMENT aligned (page aligned once larger
// than a page) and every block is page aligned and holds whole frames.
func ringGeometry(ringSizeMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const (
		alignment = 16
		hdrLen    = 52
		maxBlock  = 4 << 20
	)

	if ringSizeMB <= 0 {
		return 0, 0, 0, fmt.Errorf("ring size must be positive, got %d MB", ringSizeMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snaplen must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%alignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size %d is not a multiple of %d", pageSize, alignment)
	}

	frameSize = roundUp(hdrLen+snapLen, alignment)
	if frameSize > pageSize {
		frameSize = roundUp(frameSize, pageSize)
		blockSize = frameSize * max(maxBlock/frameSize, 1)
	} else {
		blockSize = pageSize * frameSize / gcd(pageSize, frameSize)
	}

	numBlocks = max(ringSizeMB<<20/blockSize, 1)
	return frameSize, blockSize, numBlocks, nil
}

func roundUp(n, to int) int {
	return (n + to - 1) / to * to
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
