package httpapi

// Config defines the local front end settings.
type Config struct {
	Addr       string
	BasePath   string
	HubHistory int
}
