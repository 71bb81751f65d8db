package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/clbanning/mxj/v2"
)

// Phase-2 introspection: unicast SOAP calls against the device service
// endpoint found during discovery. Each call runs under its own
// sub-timeout and fails independently; a miss leaves its fields absent
// instead of failing the whole discovery.

const deviceInformationBody = `<?xml version="1.0" encoding="UTF-8"?>
	<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope">
		<s:Body>
			<tds:GetDeviceInformation xmlns:tds="http://www.onvif.org/ver10/device/wsdl"/>
		</s:Body>
	</s:Envelope>`

const capabilitiesBody = `<?xml version="1.0" encoding="UTF-8"?>
	<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope">
		<s:Body>
			<tds:GetCapabilities xmlns:tds="http://www.onvif.org/ver10/device/wsdl">
				<tds:Category>All</tds:Category>
			</tds:GetCapabilities>
		</s:Body>
	</s:Envelope>`

const servicesBody = `<?xml version="1.0" encoding="UTF-8"?>
	<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope">
		<s:Body>
			<tds:GetServices xmlns:tds="http://www.onvif.org/ver10/device/wsdl">
				<tds:IncludeCapability>true</tds:IncludeCapability>
			</tds:GetServices>
		</s:Body>
	</s:Envelope>`

const deviceWSDL = "http://www.onvif.org/ver10/device/wsdl"

// introspect runs the phase-2 calls and merges whatever they yield
func (o *ONVIFProber) introspect(ctx context.Context, endpoint string, details map[string]any) {
	client := &http.Client{Timeout: o.SubTimeout}

	if doc, err := o.soapCall(ctx, client, endpoint, deviceWSDL+"/GetDeviceInformation", deviceInformationBody); err == nil {
		const base = "Envelope.Body.GetDeviceInformationResponse."
		setIfPresent(details, "manufacturer", doc, base+"Manufacturer")
		setIfPresent(details, "model", doc, base+"Model")
		setIfPresent(details, "firmware_version", doc, base+"FirmwareVersion")
		setIfPresent(details, "serial_number", doc, base+"SerialNumber")
	} else {
		o.log.Debug().Err(err).Str("endpoint", endpoint).Msg("device information unavailable")
	}

	if doc, err := o.soapCall(ctx, client, endpoint, deviceWSDL+"/GetCapabilities", capabilitiesBody); err == nil {
		if caps := parseCapabilities(doc); len(caps) > 0 {
			details["capabilities"] = caps
		}
	} else {
		o.log.Debug().Err(err).Str("endpoint", endpoint).Msg("capabilities unavailable")
	}

	if doc, err := o.soapCall(ctx, client, endpoint, deviceWSDL+"/GetServices", servicesBody); err == nil {
		if services := parseServices(doc); len(services) > 0 {
			details["services"] = services
		}
	} else {
		o.log.Debug().Err(err).Str("endpoint", endpoint).Msg("services unavailable")
	}
}

// soapCall posts one SOAP request and parses the response envelope
func (o *ONVIFProber) soapCall(ctx context.Context, client *http.Client, endpoint, action, body string) (mxj.Map, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/soap+xml")
	req.Header.Set("SOAPAction", action)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return mxj.NewMapXml(raw)
}

// parseCapabilities collects per-category service addresses from a
// GetCapabilities response
func parseCapabilities(doc mxj.Map) map[string]any {
	caps := make(map[string]any)
	const base = "Envelope.Body.GetCapabilitiesResponse.Capabilities."
	for _, category := range []string{"Analytics", "Device", "Events", "Imaging", "Media", "PTZ"} {
		if xaddr, err := doc.ValueForPathString(base + category + ".XAddr"); err == nil && xaddr != "" {
			caps[strings.ToLower(category)] = xaddr
		}
	}
	return caps
}

// parseServices builds the hosted-service map from a GetServices
// response: service id -> endpoint plus the operations derived from its
// capability flags
func parseServices(doc mxj.Map) map[string]any {
	values, err := doc.ValuesForPath("Envelope.Body.GetServicesResponse.Service")
	if err != nil || len(values) == 0 {
		return nil
	}

	services := make(map[string]any)
	for _, v := range values {
		entry, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		namespace, _ := entry["Namespace"].(string)
		xaddr, _ := entry["XAddr"].(string)
		if namespace == "" || xaddr == "" {
			continue
		}
		hosted := map[string]any{"endpoint": xaddr}
		if ops := collectOperations(entry["Capabilities"]); len(ops) > 0 {
			hosted["operations"] = ops
		}
		services[serviceID(namespace)] = hosted
	}
	return services
}

// serviceID reduces a service namespace to a short identifier, e.g.
// http://www.onvif.org/ver10/device/wsdl -> device
func serviceID(namespace string) string {
	trimmed := strings.TrimSuffix(namespace, "/")
	trimmed = strings.TrimSuffix(trimmed, "/wsdl")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if trimmed == "" {
		return namespace
	}
	return trimmed
}

// collectOperations walks a service's capability element and returns
// the names of flags the device reports true. Attribute keys arrive
// hyphen-prefixed from the XML decoder.
func collectOperations(v any) []string {
	set := make(map[string]struct{})
	var walk func(any)
	walk = func(node any) {
		m, ok := node.(map[string]interface{})
		if !ok {
			return
		}
		for key, val := range m {
			name := strings.TrimPrefix(key, "-")
			switch typed := val.(type) {
			case string:
				if strings.EqualFold(typed, "true") {
					set[name] = struct{}{}
				}
			case map[string]interface{}:
				walk(typed)
			case []interface{}:
				for _, item := range typed {
					walk(item)
				}
			}
		}
	}
	walk(v)

	ops := make([]string, 0, len(set))
	for name := range set {
		ops = append(ops, name)
	}
	sort.Strings(ops)
	return ops
}

// setIfPresent copies a non-empty string value out of the document
func setIfPresent(details map[string]any, key string, doc mxj.Map, path string) {
	if value, err := doc.ValueForPathString(path); err == nil && value != "" {
		details[key] = value
	}
}

// urlUnescape decodes percent-encoded scope values, tolerating junk
func urlUnescape(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}
