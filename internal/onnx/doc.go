// Package onnx writes, reads and executes ONNX models.
//
// The protobuf messages are hand-written structs covering the subset of
// onnx.proto the face embedding artifact needs. Marshal and Parse encode and
// decode them with google.golang.org/protobuf/encoding/protowire.
//
// Export turns a traced graph into a ModelProto for a deployment target,
// Annotate attaches descriptive metadata and Save writes the file. Load runs
// an artifact on a tensor.Backend so it can be checked against the native
// network.
//
// Example usage:
//
//	proto, err := onnx.Export(model.Trace(), onnx.DefaultExportOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := onnx.Annotate(proto, md); err != nil {
//	    log.Fatal(err)
//	}
//	if err := onnx.Save("MobileFaceNet.onnx", proto); err != nil {
//	    log.Fatal(err)
//	}
package onnx
