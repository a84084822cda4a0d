package models

import "errors"

// one error kind per pipeline stage, stage errors wrap these
var (
	ErrDocumentProcessing  = errors.New("document processing error")
	ErrImageProcessing     = errors.New("image processing error")
	ErrModelInitialization = errors.New("model initialization error")
	ErrRetriever           = errors.New("retriever error")
)
