package render

// Theme holds colors for call graph rendering.
type Theme struct {
	Background string
	NodeFill   string
	NodeBorder string
	TextColor  string

	EdgeColor string // caller->callee edge
	RootFill  string // root calls (no pending parent at ENTER time)
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	NodeFill:   "white",
	NodeBorder: "#1A1A1A",
	TextColor:  "#1A1A1A",

	EdgeColor: "#0B3D91", // NASA blue
	RootFill:  "#ECEFF1", // blue-gray 50
}
