package mount

import (
	"fmt"
	"strings"
)

// RenderLinkScript generates the guest shell snippet that symlinks each
// HomeLink's target to its staged source directory, creating parents and
// fixing ownership. Ported from render_home_links_script.
func RenderLinkScript(links []HomeLink, sshUser string) string {
	if len(links) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("link_home() {\n")
	b.WriteString("  src=\"$1\"\n")
	b.WriteString("  dest=\"$2\"\n")
	b.WriteString("  if [ -L \"$dest\" ]; then\n")
	b.WriteString("    current=\"$(readlink \"$dest\" || true)\"\n")
	b.WriteString("    if [ \"$current\" != \"$src\" ]; then\n")
	b.WriteString("      rm -f \"$dest\"\n")
	b.WriteString("    fi\n")
	b.WriteString("  fi\n")
	b.WriteString("  if [ ! -e \"$dest\" ]; then\n")
	b.WriteString("    mkdir -p \"$(dirname \"$dest\")\"\n")
	b.WriteString("    ln -s \"$src\" \"$dest\"\n")
	b.WriteString("  fi\n")
	fmt.Fprintf(&b, "  chown -h \"%s:%s\" \"$dest\" 2>/dev/null || true\n", sshUser, sshUser)
	b.WriteString("}\n")

	for _, link := range links {
		fmt.Fprintf(&b, "link_home %s %s\n", shellEscape(link.Source), shellEscape(link.Target))
	}

	return strings.TrimRight(b.String(), "\n")
}

// shellEscape wraps value in single quotes, escaping any embedded single
// quote with the standard '"'"' sequence.
func shellEscape(value string) string {
	escaped := strings.ReplaceAll(value, "'", `'"'"'`)
	return "'" + escaped + "'"
}
