package serialization

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/born-ml/facenet/internal/tensor"
)

// Pickle opcodes used by the state dict writer (protocol 2).
const (
	opProto      = 0x80
	opGlobal     = 'c'
	opMark       = '('
	opEmptyTuple = ')'
	opTuple      = 't'
	opReduce     = 'R'
	opBinInt     = 'J'
	opBinUnicode = 'X'
	opBinPersID  = 'Q'
	opNewFalse   = 0x89
	opSetItems   = 'u'
	opStop       = '.'
)

// torchArchive is the record prefix torch.save uses inside the zip.
const torchArchive = "archive"

// WriteTorchStateDict writes tensors as a PyTorch zip checkpoint that
// torch.load reads back as an OrderedDict.
//
// Like WriteSafeTensors the file is written next to path and renamed into
// place.
func WriteTorchStateDict(path string, stateDict map[string]*tensor.RawTensor) error {
	tmp := path + ".tmp"
	//nolint:gosec // G304: File path comes from user input, which is expected for model saving
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	err = WriteTorchTo(file, stateDict)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp) // Best effort cleanup
		return err
	}
	return os.Rename(tmp, path)
}

// WriteTorchTo writes a state dictionary as a PyTorch zip archive to w.
//
// Every tensor gets its own storage record, named by its position in
// sorted key order.
func WriteTorchTo(w io.Writer, stateDict map[string]*tensor.RawTensor) error {
	names := make([]string, 0, len(stateDict))
	for name := range stateDict {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var pkl pickleWriter
	pkl.op(opProto)
	pkl.op(2)
	pkl.global("collections", "OrderedDict")
	pkl.op(opEmptyTuple)
	pkl.op(opReduce)
	pkl.op(opMark)
	for i, name := range names {
		raw := stateDict[name]
		storage, err := torchStorage(raw.DType())
		if err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		shape := raw.Shape()

		pkl.unicode(name)
		pkl.global("torch._utils", "_rebuild_tensor_v2")
		pkl.op(opMark)

		pkl.op(opMark)
		pkl.unicode("storage")
		pkl.global("torch", storage)
		pkl.unicode(strconv.Itoa(i))
		pkl.unicode("cpu")
		pkl.binInt(shape.NumElements())
		pkl.op(opTuple)
		pkl.op(opBinPersID)

		pkl.binInt(0)
		pkl.intTuple(shape)
		pkl.intTuple(shape.ComputeStrides())
		pkl.op(opNewFalse)
		pkl.global("collections", "OrderedDict")
		pkl.op(opEmptyTuple)
		pkl.op(opReduce)
		pkl.op(opTuple)
		pkl.op(opReduce)
	}
	pkl.op(opSetItems)
	pkl.op(opStop)

	zw := zip.NewWriter(w)
	records := []torchRecord{
		{"data.pkl", pkl.buf.Bytes()},
		{"byteorder", []byte("little")},
	}
	for i, name := range names {
		records = append(records, torchRecord{"data/" + strconv.Itoa(i), stateDict[name].Data()})
	}
	records = append(records, torchRecord{"version", []byte("3\n")})

	for _, rec := range records {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:   torchArchive + "/" + rec.name,
			Method: zip.Store,
		})
		if err != nil {
			return fmt.Errorf("failed to create record %s: %w", rec.name, err)
		}
		if _, err := fw.Write(rec.data); err != nil {
			return fmt.Errorf("failed to write record %s: %w", rec.name, err)
		}
	}
	return zw.Close()
}

type torchRecord struct {
	name string
	data []byte
}

func torchStorage(dt tensor.DataType) (string, error) {
	switch dt {
	case tensor.Float32:
		return "FloatStorage", nil
	case tensor.Float16:
		return "HalfStorage", nil
	case tensor.Int64:
		return "LongStorage", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDType, dt)
	}
}

// pickleWriter emits the handful of opcodes a state dict needs.
type pickleWriter struct {
	buf bytes.Buffer
}

func (p *pickleWriter) op(b byte) {
	p.buf.WriteByte(b)
}

func (p *pickleWriter) global(module, name string) {
	p.buf.WriteByte(opGlobal)
	p.buf.WriteString(module + "\n" + name + "\n")
}

func (p *pickleWriter) unicode(s string) {
	p.buf.WriteByte(opBinUnicode)
	_ = binary.Write(&p.buf, binary.LittleEndian, uint32(len(s))) //nolint:gosec // G115: names are short
	p.buf.WriteString(s)
}

func (p *pickleWriter) binInt(v int) {
	p.buf.WriteByte(opBinInt)
	_ = binary.Write(&p.buf, binary.LittleEndian, int32(v)) //nolint:gosec // G115: dims fit in int32
}

func (p *pickleWriter) intTuple(values []int) {
	if len(values) == 0 {
		p.buf.WriteByte(opEmptyTuple)
		return
	}
	p.buf.WriteByte(opMark)
	for _, v := range values {
		p.binInt(v)
	}
	p.buf.WriteByte(opTuple)
}
