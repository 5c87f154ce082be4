package engine

import "strings"

// Tên field mà rule có thể tham chiếu
const (
	FieldIP                   = "ip"
	FieldRemotePort           = "remotePort"
	FieldPID                  = "pid"
	FieldProcess              = "process"
	FieldProcessPath          = "processPath"
	FieldIsSigned             = "isSigned"
	FieldCountry              = "country"
	FieldProvider             = "provider"
	FieldOrganization         = "organization"
	FieldCity                 = "city"
	FieldRecurrence           = "recurrence"
	FieldNonRiskyHistoryCount = "nonRiskyHistoryCount"
)

// Context là tập thuộc tính của một process+connection đang được chấm điểm.
// Field string rỗng coi như vắng mặt => mọi condition trên nó là false.
type Context struct {
	IP           string
	RemotePort   uint32
	PID          int32
	Process      string
	ProcessPath  string
	IsSigned     bool
	SignatureOK  bool // false: chưa kiểm tra được chữ ký => isSigned vắng mặt
	Country      string
	Provider     string
	Organization string
	City         string

	Recurrence           int
	NonRiskyHistoryCount int

	// field mở rộng (scanner điền protocol, localAddress, localPort, state);
	// field có kiểu ở trên luôn được ưu tiên
	Extra map[string]any
}

// Get trả về giá trị field và cờ có mặt
func (c *Context) Get(field string) (any, bool) {
	switch field {
	case FieldIP:
		return str(c.IP)
	case FieldRemotePort:
		return int(c.RemotePort), c.RemotePort != 0
	case FieldPID:
		return int(c.PID), c.PID > 0
	case FieldProcess:
		return str(c.Process)
	case FieldProcessPath:
		return str(c.ProcessPath)
	case FieldIsSigned:
		return c.IsSigned, c.SignatureOK
	case FieldCountry:
		return str(c.Country)
	case FieldProvider:
		return str(c.Provider)
	case FieldOrganization:
		return str(c.Organization)
	case FieldCity:
		return str(c.City)
	case FieldRecurrence:
		return c.Recurrence, true
	case FieldNonRiskyHistoryCount:
		return c.NonRiskyHistoryCount, true
	}
	if c.Extra == nil {
		return nil, false
	}
	v, ok := c.Extra[field]
	if s, isStr := v.(string); ok && isStr {
		return str(s)
	}
	return v, ok && v != nil
}

func str(s string) (any, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, false
	}
	return s, true
}
