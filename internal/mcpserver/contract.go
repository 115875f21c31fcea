package mcpserver

// RequestFormatContract describes the simulate_archive tool inputs for LLM
// consumers.
const RequestFormatContract = `# rpfba Request Format

A simulation merges every pathway model of an input archive into a genome
scale model (GEM), runs flux balance analysis and returns one annotated
model per pathway.

## Locations

` + "`input`" + `, ` + "`gem`" + ` and ` + "`output`" + ` accept:

- a local path: ` + "`/data/batch.tar.xz`" + `
- an S3 object: ` + "`s3://bucket/key`" + `
- for inputs only, an https URL or a base64 data URI:
  ` + "`data:application/x-xz;base64,...`" + `

Without ` + "`output`" + `, the result is returned inline as a base64 data URI.

## Input archive

A tar file, plain or compressed with xz or gzip. Every regular file whose
name does not start with a dot is one pathway model in SBML Level 3 with the
fbc and groups packages. The job id is the file name without its
` + "`.xml`" + `, ` + "`.sbml`" + ` and ` + "`.rpsbml`" + ` suffixes. With ` + "`input_format: sbml`" + ` the
input is a single model instead.

## Parameters (` + "`params`" + `, JSON)

| field | default | meaning |
|---|---|---|
| sim_type | fraction | fraction, fba, pfba or multi_fba |
| source_reaction | biomass | reaction optimized first (fraction) or alone (fba, pfba) |
| target_reaction | RP1_sink | reaction optimized under the pinned source (fraction) |
| source_coefficient | 1.0 | objective coefficient of the source |
| target_coefficient | 1.0 | objective coefficient of the target |
| is_max | true | maximize instead of minimize |
| fraction_of | 0.75 | share of the source optimum to pin, in (0, 1] |
| dont_merge | true | write results onto the pathway model only |
| pathway_group_id | rp_pathway | group holding the pathway reactions |
| objective_id | "" | id of the final objective; generated when empty |
| compartment_id | MNXC3 | compartment the pathway species live in |
| num_workers | 10 | parallel jobs, 1 to 20 |
| fill_orphan_species | false | add source reactions for unproduced species |
| reactions | [] | multi_fba reaction ids |
| coefficients | [] | multi_fba coefficients, same length as reactions |
| input_format | tar | tar for an archive, sbml for a single model |
| compression | xz | result archive compression: xz, gzip or none |

## Results

Each output model carries, on the objective, ` + "`flux_value`" + ` (and
` + "`primary_flux_value`" + ` for pfba), on every objective term its own
` + "`flux_value`" + `, and on the pathway group and its reactions
` + "`fba_<objective_id>`" + `. Jobs whose pathway cannot be merged are skipped
and listed in the summary; the run fails only when every job is skipped.
`
