// Package loader reads network checkpoints saved as SafeTensors or with
// torch.save (zip archives decoded with gopickle).
//
// A checkpoint is a flat mapping from PyTorch state dict keys to tensors,
// e.g. "conv1.conv.weight" or "conv4.model.0.conv2.bn.running_var".
// F32, F16 and I64 tensors keep their dtype; F64 and BF16 tensors are
// converted to F32 on load.
//
// Example:
//
//	sd, err := loader.LoadStateDict("mobilefacenet.pt")
//	if errors.Is(err, fs.ErrNotExist) {
//	    // no checkpoint, caller decides on a fallback
//	}
//	if err := model.LoadStateDict(sd); err != nil {
//	    log.Fatal(err)
//	}
package loader
