package input

// SpecialKey is a non-printable key.
type SpecialKey string

const (
	KeyEscape    SpecialKey = "escape"
	KeyEnter     SpecialKey = "enter"
	KeyTab       SpecialKey = "tab"
	KeyBackspace SpecialKey = "backspace"
	KeyDelete    SpecialKey = "delete"
	KeyHome      SpecialKey = "home"
	KeyEnd       SpecialKey = "end"
	KeyPageUp    SpecialKey = "pageup"
	KeyPageDown  SpecialKey = "pagedown"
	KeyUp        SpecialKey = "up"
	KeyDown      SpecialKey = "down"
	KeyLeft      SpecialKey = "left"
	KeyRight     SpecialKey = "right"
)

var specialKeys = map[SpecialKey]bool{
	KeyEscape: true, KeyEnter: true, KeyTab: true, KeyBackspace: true,
	KeyDelete: true, KeyHome: true, KeyEnd: true, KeyPageUp: true,
	KeyPageDown: true, KeyUp: true, KeyDown: true, KeyLeft: true, KeyRight: true,
}

// IsSpecialKey reports whether key names a supported special key.
func IsSpecialKey(key string) bool {
	return specialKeys[SpecialKey(key)]
}
