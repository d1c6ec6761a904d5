package capture

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// FileSource replays a pcap or pcapng file.
type FileSource struct {
	path   string
	file   *os.File
	reader gopacket.PacketDataSource
	link   layers.LinkType
}

// OpenFile opens a capture file, detecting pcap and pcapng.
func OpenFile(path string) (*FileSource, error) {
	if path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}

	fs := &FileSource{path: path, file: f}
	if r, err := pcapgo.NewReader(f); err == nil {
		fs.reader, fs.link = r, r.LinkType()
		return fs, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rewind capture file %s: %w", path, err)
	}
	ng, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read capture file %s: not pcap or pcapng: %w", path, err)
	}
	fs.reader, fs.link = ng, ng.LinkType()
	return fs, nil
}

// ReadPacketData returns the next frame, io.EOF at the end of the file.
func (fs *FileSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if fs.reader == nil {
		return nil, gopacket.CaptureInfo{}, fmt.Errorf("file source closed")
	}
	data, ci, err := fs.reader.ReadPacketData()
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, gopacket.CaptureInfo{}, io.EOF
		}
		return nil, gopacket.CaptureInfo{}, fmt.Errorf("failed to read packet: %w", err)
	}
	return data, ci, nil
}

// LinkType returns the file's link type.
func (fs *FileSource) LinkType() layers.LinkType {
	return fs.link
}

func (fs *FileSource) Close() error {
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file, fs.reader = nil, nil
	return err
}

// PcapSink writes transmitted frames to a pcap file instead of a device.
type PcapSink struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	writer *pcapgo.Writer
	now    func() time.Time
}

// CreatePcapSink creates (truncating) a pcap file for Ethernet frames.
func CreatePcapSink(path string, snaplen int) (*PcapSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create pcap sink %s: %w", path, err)
	}
	buf := bufio.NewWriter(f)
	w := pcapgo.NewWriter(buf)
	if err := w.WriteFileHeader(uint32(snaplen), layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &PcapSink{file: f, buf: buf, writer: w, now: time.Now}, nil
}

// Transmit appends frame to the file.
func (s *PcapSink) Transmit(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return fmt.Errorf("pcap sink closed")
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     s.now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	return s.writer.WritePacket(ci, frame)
}

// Close flushes and closes the file.
func (s *PcapSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	ferr := s.buf.Flush()
	cerr := s.file.Close()
	s.file, s.buf, s.writer = nil, nil, nil
	if ferr != nil {
		return ferr
	}
	return cerr
}
