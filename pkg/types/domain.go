package types

// Model is a model file discovered on disk.
type Model struct {
	// Stable identifier: the file name without its extension.
	// example: yolo-hazard-int8
	ID string `json:"id"`
	// File name including extension.
	Name string `json:"name"`
	// Absolute path to the model file.
	Path string `json:"path"`
	// Serialization format derived from the extension: tflite, onnx, gguf or bin.
	Format string `json:"format"`
	// Size of the file in bytes.
	SizeBytes int64 `json:"size_bytes"`
	// Complexity class inferred from size: basic, standard or advanced.
	Complexity string `json:"complexity"`
}
