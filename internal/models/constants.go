package models

const (
	PageMarkerFormat = "[Page %d] %s"
	ChunkIDMetadata  = "chunk_id"
	PositionMetadata = "position"
	SourceMetadata   = "source"

	ApologyMessage      = "I apologize, but I encountered an error while generating the response. Please try rephrasing your question."
	MissingInputMessage = "Please provide both a PDF file and a query."
	IngestErrorFormat   = "An error occurred: %s"
)

// VisualKeywords route a query to the multimodal model when the document has images
var VisualKeywords = []string{"image", "figure", "picture", "diagram", "graph", "show", "visual"}

var (
	TextPromptTemplate = `Based on the provided context, answer the following question.
If you refer to specific content, include page numbers.
If the information isn't in the context, say so clearly.

Context:
%s

Question: %s

Please provide a clear and concise answer based only on the given context.
`

	VisionPromptTemplate = `Based on the provided context and images, answer the following question.
If you refer to specific content or images, include page numbers and image locations.
If the information isn't in the context or images, say so clearly.

Context:
%s

Related Image Text:
%s

Question: %s

Please provide a detailed answer based on both the text context and visual information.
`
)
