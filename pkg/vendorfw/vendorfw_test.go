package vendorfw

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bf-radio-tools/flashcore/pkg/transport"
)

// queuedPort is a fake serial port that, on each Write, enqueues the next
// canned response packet for subsequent Reads to drain -- one exchange
// per command() call, matching a bootloader that never needs a retry.
type queuedPort struct {
	writes    [][]byte
	responses [][]byte
	buf       []byte
}

func (q *queuedPort) Write(p []byte) (int, error) {
	q.writes = append(q.writes, append([]byte(nil), p...))
	if len(q.responses) > 0 {
		q.buf = append(q.buf, q.responses[0]...)
		q.responses = q.responses[1:]
	}
	return len(p), nil
}

func (q *queuedPort) Read(p []byte) (int, error) {
	if len(q.buf) == 0 {
		return 0, nil
	}
	n := copy(p, q.buf)
	q.buf = q.buf[n:]
	return n, nil
}

func (q *queuedPort) SetReadTimeout(d time.Duration) error { return nil }
func (q *queuedPort) SetRTS(v bool) error                  { return nil }
func (q *queuedPort) SetDTR(v bool) error                  { return nil }
func (q *queuedPort) Close() error                         { return nil }

func ackResponse() []byte {
	return packPacket(packet{Cmd: CmdHandshake, Args: successArgs, Payload: nil})
}

func TestPackParsePacketRoundTrip(t *testing.T) {
	p := packet{Cmd: CmdHandshake, Args: 0, Payload: HandshakePayload}
	raw := packPacket(p)
	require.Equal(t, frameStart, raw[0])
	require.Equal(t, frameEnd, raw[len(raw)-1])
	parsed, err := parsePacket(raw)
	require.NoError(t, err)
	require.Equal(t, p.Cmd, parsed.Cmd)
	require.Equal(t, p.Args, parsed.Args)
	require.Equal(t, p.Payload, parsed.Payload)
}

func TestParsePacketRejectsBadCRC(t *testing.T) {
	raw := packPacket(packet{Cmd: CmdUpdate, Args: 6})
	raw[len(raw)-2] ^= 0xFF
	_, err := parsePacket(raw)
	require.Error(t, err)
}

func TestParsePacketRejectsMissingDelimiters(t *testing.T) {
	raw := packPacket(packet{Cmd: CmdUpdate, Args: 6})
	raw[0] = 0x00
	_, err := parsePacket(raw)
	require.Error(t, err)
}

func TestPacketByteLenMatchesPacked(t *testing.T) {
	p := packet{Cmd: CmdUpdateDataPackages, Payload: make([]byte, 1024)}
	raw := packPacket(p)
	require.Equal(t, packetByteLen(1024), len(raw))
}

func TestAnalyzeVectorTableAcceptsPlausibleImage(t *testing.T) {
	image := make([]byte, 4096)
	binary.LittleEndian.PutUint32(image[0:4], 0x20008000)
	binary.LittleEndian.PutUint32(image[4:8], 0x08000101) // thumb bit set
	report, err := AnalyzeVectorTable(image, 0x08000000)
	require.NoError(t, err)
	require.True(t, report.Plausible)
	require.Empty(t, report.Reason)
}

func TestAnalyzeVectorTableRejectsBadStackPointer(t *testing.T) {
	image := make([]byte, 16)
	binary.LittleEndian.PutUint32(image[0:4], 0x00000000)
	binary.LittleEndian.PutUint32(image[4:8], 0x08000101)
	report, err := AnalyzeVectorTable(image, 0x08000000)
	require.NoError(t, err)
	require.False(t, report.Plausible)
	require.NotEmpty(t, report.Reason)
}

func TestAnalyzeVectorTableRejectsNonThumbReset(t *testing.T) {
	image := make([]byte, 16)
	binary.LittleEndian.PutUint32(image[0:4], 0x20008000)
	binary.LittleEndian.PutUint32(image[4:8], 0x08000100) // bit0 clear
	report, err := AnalyzeVectorTable(image, 0x08000000)
	require.NoError(t, err)
	require.False(t, report.Plausible)
}

func TestAnalyzeVectorTableRejectsTruncatedImage(t *testing.T) {
	_, err := AnalyzeVectorTable(make([]byte, 4), 0x08000000)
	require.Error(t, err)
}

func TestDetectDumperSignaturesFindsMarker(t *testing.T) {
	image := append(make([]byte, 100), []byte("...FLASHDUMPER...")...)
	found := DetectDumperSignatures(image)
	require.Equal(t, []string{"FLASHDUMPER"}, found)
}

func TestDetectDumperSignaturesCleanImage(t *testing.T) {
	image := make([]byte, 4096)
	require.Empty(t, DetectDumperSignatures(image))
}

func TestPackageCountRoundsUpAndTreatsEmptyAsZero(t *testing.T) {
	require.Equal(t, 0, packageCount(0, PackageSize))
	require.Equal(t, 1, packageCount(1, PackageSize))
	require.Equal(t, 1, packageCount(PackageSize, PackageSize))
	require.Equal(t, 2, packageCount(PackageSize+1, PackageSize))
}

func TestStreamBFSendsFullPhaseCSequence(t *testing.T) {
	region1 := make([]byte, PackageSize+10) // 2 packages, second padded
	for i := range region1 {
		region1[i] = byte(i)
	}
	region2 := make([]byte, PackageSize) // exactly 1 package, no padding

	responses := make([][]byte, 6)
	for i := range responses {
		responses[i] = ackResponse()
	}
	port := &queuedPort{responses: responses}
	f := NewFlasher(transport.NewTestTransport(port))

	err := f.StreamBF(region1, region2, PackageSize)
	require.NoError(t, err)
	require.Len(t, port.writes, 6)

	announce1, err := parsePacket(port.writes[0])
	require.NoError(t, err)
	require.Equal(t, CmdUpdateDataPackages, announce1.Cmd)
	require.Equal(t, []byte{2}, announce1.Payload)

	chunk0, err := parsePacket(port.writes[1])
	require.NoError(t, err)
	require.Equal(t, CmdUpdate, chunk0.Cmd)
	require.Equal(t, byte(0), chunk0.Args)
	require.Equal(t, region1[0:PackageSize], chunk0.Payload)

	chunk1, err := parsePacket(port.writes[2])
	require.NoError(t, err)
	require.Equal(t, CmdUpdate, chunk1.Cmd)
	require.Equal(t, byte(1), chunk1.Args)
	require.Len(t, chunk1.Payload, PackageSize)
	require.Equal(t, region1[PackageSize:], chunk1.Payload[:10])
	require.Equal(t, byte(0xFF), chunk1.Payload[PackageSize-1])

	announce2, err := parsePacket(port.writes[3])
	require.NoError(t, err)
	require.Equal(t, CmdUpdateDataPackages2, announce2.Cmd)
	require.Equal(t, []byte{1}, announce2.Payload)

	chunk2, err := parsePacket(port.writes[4])
	require.NoError(t, err)
	require.Equal(t, CmdUpdate, chunk2.Cmd)
	require.Equal(t, byte(0), chunk2.Args)
	require.Equal(t, region2, chunk2.Payload)

	end, err := parsePacket(port.writes[5])
	require.NoError(t, err)
	require.Equal(t, CmdUpdateEnd, end.Cmd)
}

func TestStreamBFAnnouncesZeroPackagesForEmptySecondRegion(t *testing.T) {
	region1 := make([]byte, PackageSize)
	responses := make([][]byte, 4) // announce1, chunk1, announce2(0 packages), end
	for i := range responses {
		responses[i] = ackResponse()
	}
	port := &queuedPort{responses: responses}
	f := NewFlasher(transport.NewTestTransport(port))

	err := f.StreamBF(region1, nil, PackageSize)
	require.NoError(t, err)
	require.Len(t, port.writes, 4)

	announce2, err := parsePacket(port.writes[2])
	require.NoError(t, err)
	require.Equal(t, CmdUpdateDataPackages2, announce2.Cmd)
	require.Equal(t, []byte{0}, announce2.Payload)

	end, err := parsePacket(port.writes[3])
	require.NoError(t, err)
	require.Equal(t, CmdUpdateEnd, end.Cmd)
}
